package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/cli/render"
	"github.com/justapithecus/tproto/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Protocol string `json:"protocol"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		return r.Render(VersionResponse{
			Version:  types.Version,
			Commit:   commit,
			Protocol: "T-Protocol",
		})
	}
}
