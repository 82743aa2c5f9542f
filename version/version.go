package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built software's version.
	Version = BCSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

// BCSemVer is the current semantic version of the bookchain node.
const BCSemVer = "0.1.0"
