package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const buildImage = "gophertribe/gobuild:1.25-bookworm"

type buildFlags struct {
	version   string
	os        string
	arch      string
	crossOs   string
	crossArch string
	noCache   bool
}

// native reports whether the host can build the cli itself. karalabe/hid is
// linked with cgo, so foreign targets go through the build container.
func (f buildFlags) native() bool {
	return f.os == runtime.GOOS && f.arch == runtime.GOARCH
}

// output names the binary after its target unless it is built for the host.
func (f buildFlags) output(os, arch string) string {
	if os == runtime.GOOS && arch == runtime.GOARCH {
		return "dist/thermobus"
	}
	return fmt.Sprintf("dist/thermobus-%s-%s", os, arch)
}

func BuildCmd() *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the thermobus cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (f.crossOs == "") != (f.crossArch == "") {
				return fmt.Errorf("cross-os and cross-arch go together")
			}
			if !f.native() {
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", f.os, f.arch),
					[]string{"build", "--version", f.version, "--cross-os", f.crossOs, "--cross-arch", f.crossArch},
					build.DockerBuildOpts{NoCache: f.noCache, Image: buildImage})
			}
			os, arch := f.os, f.arch
			if f.crossOs != "" {
				os, arch = f.crossOs, f.crossArch
			}
			return build.GoBuild(f.output(os, arch), "./cmd/thermobus", build.GoBuildOpts{
				Version:       f.version,
				InjectVersion: true,
				ConfigPackage: "github.com/mklimuk/thermobus/config",
				EnableCgo:     true,
				Arch:          arch,
				OS:            os,
			})
		},
	}
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "do not use cache when building the cli")
	cmd.Flags().StringVar(&f.version, "version", "latest", "version injected into the cli")
	cmd.Flags().StringVar(&f.os, "os", runtime.GOOS, "os to build for")
	cmd.Flags().StringVar(&f.arch, "arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().StringVar(&f.crossOs, "cross-os", "", "os to cross-compile for")
	cmd.Flags().StringVar(&f.crossArch, "cross-arch", "", "arch to cross-compile for")
	return cmd
}
