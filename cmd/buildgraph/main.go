package main

import (
	"log/slog"
	"os"

	"git.home.luguber.info/inful/buildgraph/cmd/buildgraph/commands"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

func main() {
	var cli commands.CLI
	parser, err := commands.New(&cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	globals := &commands.Global{Out: os.Stdout, Logger: slog.Default()}
	if err := ctx.Run(globals, &cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
