// Command efsctl is a debug and inspection tool for an encryptedfs
// database: init, ls, cat, stat, mkdir, write, rm, fsck against a --db
// path and --key-file. It is not a FUSE mount driver.
package main

func main() {
	Execute()
}
