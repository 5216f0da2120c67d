// ABOUTME: Root heapgrok package providing version information and package documentation
// ABOUTME: The decoding and analysis code lives in the sub-packages

// Package heapgrok decodes engine heap images into object graphs. A
// constants catalog names instance types, known maps, known objects and
// space first pages; the space resolver and object decoder use it to turn
// raw words into typed objects, and the walker assembles them into a graph
// that supports paths to roots, dominators and retained sizes.
package heapgrok

// Version is the semantic version of the heapgrok tool
const Version = "0.2.0-dev"
