// Package crawler implements the crawl orchestration core for Discourse forums: the
// request model, artifact path rules, the response classifier that turns a JSON page into
// follow-up requests, the resume guard, and the orchestrator that seeds the frontier and
// wires classifier output back into the fetch engine.
package crawler
