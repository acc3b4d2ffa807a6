// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/alienmod/alienmod/cmd/alienmod"

func main() {
	cmd.Execute()
}
