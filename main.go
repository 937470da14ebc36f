// The main package for the discourse-crawler executable.
package main

import (
	"github.com/JakeFAU/discourse-crawler/cmd"
)

func main() {
	cmd.Execute()
}
