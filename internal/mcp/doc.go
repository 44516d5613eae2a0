// Package mcp exposes the knowledge retrieval engine as Model Context
// Protocol tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers tools for ingestion, graph relationships, hybrid and
// iterative retrieval, relevance feedback, and per-agent session state.
// Every tool is also recorded in a ToolRegistry so clients can discover
// tools with tool_search instead of loading all definitions upfront.
package mcp
