package main

import (
	"github.com/dmahler/beatdetect/cmd"
	"github.com/dmahler/beatdetect/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
