package extract

// extractionPrompt asks for entities and relations in one JSON object.
const extractionPrompt = `You are a knowledge graph extraction engine.
Given the following text, extract the entities it mentions and the relations between them.

Return a JSON object with exactly two keys:
  "entities"  : array of {"name": string, "type": string, "description": string}
  "relations" : array of {"source_name": string, "target_name": string, "type": string, "description": string, "quote": string}

Rules:
- "type" for entities is a short category such as PERSON, ORGANIZATION, LOCATION, EVENT, PRODUCT, CONCEPT.
- "type" for relations is a short snake_case verb phrase such as founded, works_at, located_in.
- source_name and target_name must be names from your "entities" array.
- "quote" is the sentence from the text that supports the relation.
- Only include facts clearly supported by the text.
- If there are none, return empty arrays.

EXAMPLE:

Input: "Alice founded Acme in 2001. Bob works at Acme."
Output:
{"entities": [{"name": "Alice", "type": "PERSON", "description": "Founder of Acme"}, {"name": "Acme", "type": "ORGANIZATION", "description": "Company founded in 2001"}, {"name": "Bob", "type": "PERSON", "description": "Employee of Acme"}], "relations": [{"source_name": "Alice", "target_name": "Acme", "type": "founded", "description": "Alice founded Acme in 2001", "quote": "Alice founded Acme in 2001."}, {"source_name": "Bob", "target_name": "Acme", "type": "works_at", "description": "Bob is employed by Acme", "quote": "Bob works at Acme."}]}

%s
TEXT:
%s`

// strictSuffix is added on the retry after a malformed response.
const strictSuffix = `IMPORTANT: Your previous answer could not be parsed.
Respond with ONLY the JSON object described above. No markdown fences, no comments,
no trailing commas, no text before or after the object. Every string must use double quotes.
`
