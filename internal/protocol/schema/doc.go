// Package schema models protocol interfaces and loads them from interface
// description documents.
//
// Opcodes are positional: the document order of requests and events is the
// wire order and is never changed after loading.
package schema
