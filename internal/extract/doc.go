// Package extract turns uploaded resume files into plain text. The format
// is sniffed from the content rather than trusted from the client.
package extract
