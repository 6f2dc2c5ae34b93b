// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"framepairs"
)

func main() {
	os.Exit(framepairs.Main())
}
