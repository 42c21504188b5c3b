// The main package for the sitesearch executable.
package main

import "github.com/JakeFAU/sitesearch-crawler/cmd"

func main() {
	cmd.Execute()
}
