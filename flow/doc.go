/*
Package flow loads, validates and caches conversation flow definitions.

A Flow is a named graph of nodes persisted as a pair of files: the flow
definition (<name>.flow.json) and its layout (<name>.ui.json). The
Service keeps an ordered in-memory cache of parsed flows per bot and
applies storage-change invalidations locally and cluster-wide through a
Broadcaster, so no node's cache can drift from storage.

Transition destinations are parsed once at load time into the closed
Destination variant instead of being re-sniffed from raw strings at
every traversal.
*/
package flow
