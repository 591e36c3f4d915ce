// Package jsonline provides list-like, random-access storage over a JSONL file.
//
// # Overview
//
// [Store] exposes indexed read, append, extend, length and iteration over a
// file holding one JSON value per line, without loading the file in memory.
// A positional index recording the byte offset and length of every line is
// persisted next to the data file and reloaded on [Open]. A small LRU cache
// of decoded records sits on top of it.
//
// # Files
//
// Opening "people" uses "people.json" for the data and "people.json.idx" for
// the compressed index. A path already ending in ".json" is not doubled.
//
// # Freshness
//
// The index artifact records the data file size it describes. On open, a
// size mismatch, an unreadable artifact or a failed tail probe triggers a
// rebuild by scanning the data file once. A modification made by another
// writer while a Store is open makes writes fail with [ErrStaleIndex]; it is
// never repaired implicitly. Call [Store.RebuildIndex].
//
// # Concurrency
//
// A Store serializes its own operations, so one handle may be shared between
// goroutines. Nothing coordinates two processes writing the same file.
package jsonline
