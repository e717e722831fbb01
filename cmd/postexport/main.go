// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Postexport writes the posts and custom fields of every blog in a WordPress
// network to one JSON file per blog.
//
// Usage:
//
//	# Export every blog that has no export file yet
//	postexport acf
//
//	# Export selected blogs, in the given order
//	postexport acf --blogs=3,7
//
//	# Remove all export files
//	postexport purge
package main

func main() {
	Execute()
}
