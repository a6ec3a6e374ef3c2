// Package session wires pattern generation, capture, decoding and export into
// a single projector-camera calibration run.
//
// The camera and display are owned by the session only while patterns are
// being captured; they are released before decoding starts and on every error
// path, including an aborted preview.
package session
