// Package unfurl defines the preview card model, the adapter contract and the
// error taxonomy shared by every link adapter.
package unfurl
