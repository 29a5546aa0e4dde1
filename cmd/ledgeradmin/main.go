// Command ledgeradmin is the operator tool for the credit ledger: schema
// migrations, stuck lease recovery and manual credit grants.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
