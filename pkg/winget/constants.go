// pkg/winget/constants.go
package winget

import "time"

const (
	// ExecutableName is the file name of the winget command-line client
	ExecutableName = "winget.exe"

	// CanonicalCatalog is the community source preferred for native searches
	CanonicalCatalog = "winget"

	// AppInstallerID is the package identifier of winget itself
	AppInstallerID = "Microsoft.AppInstaller"

	// AppInstallerFamilyName is the MSIX family name that carries winget
	AppInstallerFamilyName = "Microsoft.DesktopAppInstaller_8wekyb3d8bbwe"

	// Installer Types
	InstallerTypeExe      = "exe"
	InstallerTypeMsi      = "msi"
	InstallerTypeMsix     = "msix"
	InstallerTypeZip      = "zip"
	InstallerTypeInno     = "inno"
	InstallerTypeNullsoft = "nullsoft"
	InstallerTypeWix      = "wix"
	InstallerTypeBurn     = "burn"
	InstallerTypePortable = "portable"
)

// Subcommands
const (
	CmdInstall   = "install"
	CmdUninstall = "uninstall"
	CmdShow      = "show"
	CmdList      = "list"
	CmdExport    = "export"
	CmdUpgrade   = "upgrade"
)

// Flags
const (
	FlagID                      = "--id"
	FlagVersion                 = "--version"
	FlagSource                  = "--source"
	FlagExact                   = "--exact"
	FlagOutput                  = "-o"
	FlagSilent                  = "--silent"
	FlagAcceptPackageAgreements = "--accept-package-agreements"
	FlagAcceptSourceAgreements  = "--accept-source-agreements"
	FlagDisableInteractivity    = "--disable-interactivity"
	FlagForce                   = "--force"
)

// Default timings. Every one of them can be overridden through core.Config.
const (
	DefaultNativeInitTimeout  = 5 * time.Second
	DefaultDetectionWindow    = 15 * time.Second
	DefaultExportAttempts     = 3
	DefaultExportRetryDelay   = 2 * time.Second
	DefaultProgressThrottle   = 250 * time.Millisecond
	DefaultKillBudget         = 3 * time.Second
	DefaultVerifyInterval     = 3 * time.Second
	DefaultVerifyTimeout      = 60 * time.Second
	DefaultReadyProbeAttempts = 10
	DefaultReadyProbeInterval = 3 * time.Second
	DefaultUpgradeTimeout     = 120 * time.Second
)

// HelperProcessNames are processes winget spawns that can outlive the CLI
// and keep an installer locked after a cancel.
var HelperProcessNames = []string{
	"winget.exe",
	"WindowsPackageManagerServer.exe",
	"AppInstallerCLI.exe",
}
