// Package payload defines the sync payload exchanged with the remote store.
//
// # Overview
//
// A payload is a versioned JSON document holding one array per entity
// collection. It travels inside a zip container named GTD_SYNC.zip whose
// single entry is GTD_SYNC.json.
//
// Records are flat maps of field name to primitive value. Each record carries
// a transient integer "_id" that is only meaningful inside one payload, and a
// "parent_id" that is either 0 (no parent) or another record's "_id" in the
// same collection:
//
//	{
//	  "version": 2,
//	  "metadata": {"device_id": "5a0c...", "exported_at": "2025-12-03T10:00:00Z"},
//	  "task": [
//	    {"_id": 1, "parent_id": 0, "title": "Project"},
//	    {"_id": 2, "parent_id": 1, "title": "Step", "context_id": 4}
//	  ]
//	}
//
// # Forward Compatibility
//
// Unknown top-level keys and unknown record fields are ignored on decode.
// Nested objects and arrays inside records are dropped since records are
// flat by definition.
//
// # Usage
//
//	codec := payload.NewCodec(logger)
//	doc, err := codec.Decode(data)
//	...
//	blob, err := codec.Encode(doc)
package payload
