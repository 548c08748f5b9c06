// Package docstore defines the document-store client contract used by vmstore.
//
// A backend provides a [Driver] that opens a [Client] for a [Topology]. The client
// hands out [Collection] handles which expose the small set of single-document
// primitives the optimistic-concurrency protocol is built on: insert, conditional
// replace, conditional delete, find and index creation.
//
// # Implementations
//
//   - memory: in-process store for tests and local development
//   - mongo: MongoDB via the official Go driver
//   - dynamodb: Amazon DynamoDB via aws-sdk-go-v2
//
// # Filters
//
// Filters are opaque to vmstore. The mongo backend passes them straight to the
// server; the memory and dynamodb backends understand field equality and the
// $in and $exists operators (see [Match]).
package docstore
