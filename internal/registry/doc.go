// ABOUTME: Package registry tracks swarm agents and the tasks they own.
// ABOUTME: Records live in the shared context tree under "agents.<id>".

// Package registry is the source of truth for which agents exist, what they
// can do, and which tasks they currently own. Every mutation goes through
// the Registry so the per-agent concurrent task limit and the status
// lifecycle stay consistent.
package registry
