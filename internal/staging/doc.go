// Package staging assembles the build context handed to the image builder
// and removes it again.
//
// All paths are relative to the afero.Fs the package is given. Production
// code roots an afero.BasePathFs at the project directory; tests use a
// memory-backed filesystem.
package staging
