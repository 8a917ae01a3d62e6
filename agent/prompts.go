package agent

// decisionPrompt asks whether the question needs the knowledge graph.
const decisionPrompt = `You decide whether a knowledge graph must be consulted to answer a user question.

QUESTION: %s

Consider:
1. Does the question concern specific people, places, organizations, events or concepts?
2. Would facts extracted from the user's documents help answer it?
3. Or is it small talk or general knowledge?

Reply with exactly one word: "use_graph" or "direct_answer".`

// keywordPrompt asks for graph search keywords.
const keywordPrompt = `Generate search keywords for looking up a user question in a knowledge graph.
Keywords may be entity names, relation types or concepts. Prefer short names that are likely to appear verbatim.

QUESTION: %s

Return a JSON object:
{"keywords": ["keyword1", "keyword2"], "entities": ["entity name 1"]}

Return ONLY the JSON object.`

// graphAnswerPrompt grounds the answer in retrieved graph context.
const graphAnswerPrompt = `You are a helpful assistant. Answer the user's question using the knowledge graph information below.

KNOWLEDGE GRAPH:
%s

When answering:
1. Prefer facts from the knowledge graph.
2. If the information is incomplete, say so and add general knowledge only where it is clearly marked.
3. Keep the answer concise and accurate.`

// directAnswerPrompt is used when the graph is not consulted.
const directAnswerPrompt = `You are a helpful assistant. Answer the user's question directly, concisely and accurately.`
