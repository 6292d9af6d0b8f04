// Package record implements the gRPC transport of the record database.
//
// The service procdb.v1.RecordService is described by hand over the
// well-known google.protobuf.Struct and google.protobuf.Empty messages, so
// no generated code is needed. The package holds both the server adapter
// and the client stub.
package record
