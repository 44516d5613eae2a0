// Package session gives each agent its own view over one shared retriever.
//
// A Service keeps per-agent retrieval preferences and the contexts produced
// for each agent's queries. Contexts are stored under "{agent}:{query}" and,
// for iterative retrieval, "{agent}:{query}:iter_{n}". The knowledge itself
// is shared; only preferences and session history are per agent.
package session
