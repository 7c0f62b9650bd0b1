// Package io implements WASI I/O interfaces for stream operations.
//
// Implements:
//   - wasi:io/streams@0.2.8 - Input and output streams
//   - wasi:io/poll@0.2.8 - Pollable resources
//   - wasi:io/error@0.2.8 - Stream errors
//
// Stream values live in the preview2 package; the hosts here resolve guest
// handles, run the operation, and turn a failed operation into an error
// resource the guest can read with to-debug-string.
package io
