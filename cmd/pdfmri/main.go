package main

import "pdfmri/internal/cli"

func main() {
	cli.Execute()
}
