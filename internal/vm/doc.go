// Package vm implements the provisioning workflows: create, remove,
// attach-disk, and list. Each workflow connects to libvirt, then delegates
// to an internal function that takes narrow interfaces so tests can inject
// mocks.
package vm
