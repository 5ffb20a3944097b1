// Command evaguard is a regex rule based message compliance engine with an
// HTTP API, a JSON-RPC stdio transport and a rule management CLI.
package main

import "github.com/evaguard/evaguard/cmd/evaguard/cmd"

func main() {
	cmd.Execute()
}
