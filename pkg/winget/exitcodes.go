// pkg/winget/exitcodes.go
package winget

import "fmt"

// ExitCodeTableVersion identifies the revision of the winget return-code
// tables below. Bump it whenever a mapping changes.
const ExitCodeTableVersion = "2024.1"

// ExitCode is a winget process exit code. winget reports HRESULTs, so the
// value occupies the full 32-bit space.
type ExitCode uint32

// NormalizeExitCode folds a raw exit status into the 32-bit code space.
// Windows may surface an HRESULT either as a negative int32 or as a large
// positive value depending on who read it; both map to the same ExitCode.
func NormalizeExitCode(raw int) ExitCode {
	return ExitCode(uint32(int64(raw)))
}

// String renders the code the way winget documents it.
func (c ExitCode) String() string {
	return fmt.Sprintf("0x%08X", uint32(c))
}

// Int returns the code as the int that os/exec would report on a 64-bit host.
func (c ExitCode) Int() int {
	return int(uint32(c))
}

// Documented winget return codes.
const (
	CodeSuccess                      ExitCode = 0
	CodeInternalError                ExitCode = 0x8A150001
	CodeInvalidArguments             ExitCode = 0x8A150002
	CodeCommandFailed                ExitCode = 0x8A150003
	CodeShellExecInstallFailed       ExitCode = 0x8A150006
	CodeDownloadFailed               ExitCode = 0x8A150008
	CodeNoApplicableInstaller        ExitCode = 0x8A150010
	CodeInstallerHashMismatch        ExitCode = 0x8A150011
	CodeSourceNameDoesNotExist       ExitCode = 0x8A150012
	CodeNoApplicationsFound          ExitCode = 0x8A150014
	CodeNoSourcesDefined             ExitCode = 0x8A150015
	CodeMultipleApplicationsFound    ExitCode = 0x8A150016
	CodeNoManifestFound              ExitCode = 0x8A150017
	CodeCommandRequiresAdmin         ExitCode = 0x8A150019
	CodeMSStoreBlockedByPolicy       ExitCode = 0x8A15001B
	CodeMSStoreAppBlockedByPolicy    ExitCode = 0x8A15001C
	CodeMSStoreInstallFailed         ExitCode = 0x8A15001E
	CodeUpdateNotApplicable          ExitCode = 0x8A15002B
	CodeInstallerSecurityCheckFailed ExitCode = 0x8A15002D
	CodeDownloadSizeMismatch         ExitCode = 0x8A15002E
	CodeNoUninstallInfoFound         ExitCode = 0x8A15002F
	CodeExecUninstallCommandFailed   ExitCode = 0x8A150030
	CodePackageAgreementsNotAccepted ExitCode = 0x8A150035
	CodeSourceAgreementsNotAccepted  ExitCode = 0x8A150044
	CodeFailedToOpenAllSources       ExitCode = 0x8A150046

	CodeInstallPackageInUse           ExitCode = 0x8A150101
	CodeInstallInProgress             ExitCode = 0x8A150102
	CodeInstallFileInUse              ExitCode = 0x8A150103
	CodeInstallMissingDependency      ExitCode = 0x8A150104
	CodeInstallDiskFull               ExitCode = 0x8A150105
	CodeInstallInsufficientMemory     ExitCode = 0x8A150106
	CodeInstallNoNetwork              ExitCode = 0x8A150107
	CodeInstallContactSupport         ExitCode = 0x8A150108
	CodeInstallRebootRequiredToFinish ExitCode = 0x8A150109
	CodeInstallRebootRequiredToStart  ExitCode = 0x8A15010A
	CodeInstallRebootInitiated        ExitCode = 0x8A15010B
	CodeInstallCancelledByUser        ExitCode = 0x8A15010C
	CodeInstallAlreadyInstalled       ExitCode = 0x8A15010D
	CodeInstallDowngrade              ExitCode = 0x8A15010E
	CodeInstallBlockedByPolicy        ExitCode = 0x8A15010F
	CodeInstallSystemNotSupported     ExitCode = 0x8A150113
)

// CodeSourcesUnreachable is the code winget returns when none of its
// configured sources could be opened. Retrying an export cannot fix it.
const CodeSourcesUnreachable = CodeFailedToOpenAllSources

// FailureReason classifies why an operation failed.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailurePackageNotFound
	FailureBlockedByPolicy
	FailureDownloadError
	FailureHashMismatchOrInstallError
	FailureNoApplicableInstallers
	FailureAgreementsNotAccepted
	FailureNetworkError
	FailureOther
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "None"
	case FailurePackageNotFound:
		return "PackageNotFound"
	case FailureBlockedByPolicy:
		return "BlockedByPolicy"
	case FailureDownloadError:
		return "DownloadError"
	case FailureHashMismatchOrInstallError:
		return "HashMismatchOrInstallError"
	case FailureNoApplicableInstallers:
		return "NoApplicableInstallers"
	case FailureAgreementsNotAccepted:
		return "AgreementsNotAccepted"
	case FailureNetworkError:
		return "NetworkError"
	default:
		return "Other"
	}
}

// Describe returns a user-facing sentence for the reason.
func (r FailureReason) Describe() string {
	switch r {
	case FailureNone:
		return "Operation completed"
	case FailurePackageNotFound:
		return "The package was not found in any configured source"
	case FailureBlockedByPolicy:
		return "The operation is blocked by system policy"
	case FailureDownloadError:
		return "The installer could not be downloaded"
	case FailureHashMismatchOrInstallError:
		return "The installer failed verification or did not complete"
	case FailureNoApplicableInstallers:
		return "No installer is applicable to this system"
	case FailureAgreementsNotAccepted:
		return "Package or source agreements were not accepted"
	case FailureNetworkError:
		return "A network error prevented the operation"
	default:
		return "The package manager reported an error"
	}
}

var successCodes = map[ExitCode]struct{}{
	CodeSuccess:                       {},
	CodeInstallAlreadyInstalled:       {},
	CodeInstallRebootRequiredToFinish: {},
	CodeInstallRebootInitiated:        {},
	CodeUpdateNotApplicable:           {},
}

// verifiableCodes are failures that must be re-checked against live state.
// winget folds the wrapped uninstaller's own exit status into a single
// generic code, which it also reports for uninstallers that succeeded.
var verifiableCodes = map[ExitCode]struct{}{
	CodeExecUninstallCommandFailed: {},
}

var failureReasons = map[ExitCode]FailureReason{
	CodeNoApplicationsFound: FailurePackageNotFound,
	CodeNoManifestFound:     FailurePackageNotFound,

	CodeMSStoreBlockedByPolicy:    FailureBlockedByPolicy,
	CodeMSStoreAppBlockedByPolicy: FailureBlockedByPolicy,
	CodeInstallBlockedByPolicy:    FailureBlockedByPolicy,

	CodeDownloadFailed:       FailureDownloadError,
	CodeDownloadSizeMismatch: FailureDownloadError,

	CodeInstallerHashMismatch:        FailureHashMismatchOrInstallError,
	CodeShellExecInstallFailed:       FailureHashMismatchOrInstallError,
	CodeMSStoreInstallFailed:         FailureHashMismatchOrInstallError,
	CodeInstallerSecurityCheckFailed: FailureHashMismatchOrInstallError,

	CodeNoApplicableInstaller:     FailureNoApplicableInstallers,
	CodeInstallSystemNotSupported: FailureNoApplicableInstallers,

	CodePackageAgreementsNotAccepted: FailureAgreementsNotAccepted,
	CodeSourceAgreementsNotAccepted:  FailureAgreementsNotAccepted,

	CodeInstallNoNetwork:       FailureNetworkError,
	CodeFailedToOpenAllSources: FailureNetworkError,
}

// IsSuccess reports whether the code means the operation took effect.
func IsSuccess(c ExitCode) bool {
	_, ok := successCodes[c]
	return ok
}

// IsVerifiable reports whether an apparent failure has to be confirmed by
// querying the installed state before it is reported.
func IsVerifiable(c ExitCode) bool {
	_, ok := verifiableCodes[c]
	return ok
}

// Classify maps an exit code to a FailureReason. Success codes map to
// FailureNone and unmapped codes to FailureOther.
func Classify(c ExitCode) FailureReason {
	if IsSuccess(c) {
		return FailureNone
	}
	if r, ok := failureReasons[c]; ok {
		return r
	}
	return FailureOther
}

// SuccessCodes returns the success set.
func SuccessCodes() []ExitCode {
	out := make([]ExitCode, 0, len(successCodes))
	for c := range successCodes {
		out = append(out, c)
	}
	return out
}

// VerifiableCodes returns the set of codes that require verification.
func VerifiableCodes() []ExitCode {
	out := make([]ExitCode, 0, len(verifiableCodes))
	for c := range verifiableCodes {
		out = append(out, c)
	}
	return out
}
