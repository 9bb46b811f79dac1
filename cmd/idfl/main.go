// Command idfl inspects and edits idfreelist registries.
package main

func main() {
	execute()
}
