package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary     = "dist/tonerchip"
	mainPkg    = "./cmd/tonerchip"
	configPkg  = "github.com/mklimuk/tonerchip/config"
	buildImage = "gophertribe/gobuild:1.25-bookworm"
)

type target struct {
	os, arch           string
	crossOS, crossArch string
	version            string
}

func (t target) native() bool {
	return t.os == runtime.GOOS && t.arch == runtime.GOARCH
}

func readTarget(cmd *cobra.Command) (target, error) {
	var t target
	for name, dst := range map[string]*string{
		"os":         &t.os,
		"arch":       &t.arch,
		"cross-os":   &t.crossOS,
		"cross-arch": &t.crossArch,
		"version":    &t.version,
	} {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return t, fmt.Errorf("could not get %s flag: %w", name, err)
		}
		*dst = v
	}
	return t, nil
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the tonerchip command",
		Long: `Build dist/tonerchip. Native builds run go build with cgo enabled (the
MCP2221 adapter needs hidapi); other targets are built inside the build image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTarget(cmd)
			if err != nil {
				return err
			}
			if t.native() {
				goos, goarch := t.os, t.arch
				if t.crossOS != "" && t.crossArch != "" {
					goos, goarch = t.crossOS, t.crossArch
				}
				slog.Info("building", "binary", binary, "os", goos, "arch", goarch, "version", t.version)
				return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
					Version:       t.version,
					InjectVersion: true,
					ConfigPackage: configPkg,
					EnableCgo:     true,
					Arch:          goarch,
					OS:            goos,
				})
			}
			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			slog.Info("building in container", "image", buildImage, "os", t.os, "arch", t.arch)
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", t.os, t.arch),
				[]string{"build", "--version", t.version, "--cross-os", t.crossOS, "--cross-arch", t.crossArch},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   buildImage,
				})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in the container")
	cmd.Flags().String("version", "latest", "version injected into the binary")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")

	return cmd
}
