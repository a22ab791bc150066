// Package memory implements a two-tier memory store for AI agents.
//
// Tier 1 (online): persona, notices (NOTAMs), and session activity served
// verbatim for prompt injection. Tier 2 (on-demand): semantic similarity
// search over free-text memories, scoped by user and by owning agent.
//
// Architecture:
//   - Store: vector storage backend (sqlite for durable local use,
//     chromem-go for ephemeral in-process use)
//   - Embedder: text-to-vector conversion (model-backed over HTTP, or a
//     deterministic hash fallback when no model backend is reachable)
//   - Service: orchestrates embedding, visibility filtering, similarity
//     search, and access bookkeeping
//   - ContextService: assembles the online tier (persona + active NOTAMs +
//     last session) and records the caller's presence
//
// Agent isolation:
//   - No agent ID on a request: unrestricted (admin/introspection mode)
//   - Agent ID set: the agent sees its own memories, plus memories whose
//     access mode is shared unless shared inclusion is switched off
//
// The Embedder is constructed once at startup and is read-only afterwards,
// so a single instance is safe for concurrent use by any number of search
// and add operations.
package memory
