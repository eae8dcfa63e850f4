// pkg/native/powershell.go
package native

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/arc-language/winpkg/pkg/winget"
)

// DefaultPowerShell is the Windows PowerShell host used by PowerShellAPI.
const DefaultPowerShell = "powershell.exe"

const psPrelude = "$ErrorActionPreference = 'Stop'; " +
	"$ProgressPreference = 'SilentlyContinue'; " +
	"Import-Module Microsoft.WinGet.Client; "

// PowerShellAPI reaches the automation API through the Microsoft.WinGet.Client
// module, which is a thin wrapper over the same COM surface. Each call runs
// synchronously on the calling goroutine.
type PowerShellAPI struct {
	client *winget.Client
}

// NewPowerShellAPI returns an adapter using the PowerShell host at shell
// (DefaultPowerShell when empty).
func NewPowerShellAPI(shell string, runner winget.Runner, logger *slog.Logger) *PowerShellAPI {
	if shell == "" {
		shell = DefaultPowerShell
	}
	return &PowerShellAPI{client: winget.NewClient(shell, runner, logger)}
}

// Handshake imports the module and asks it for the winget version.
func (p *PowerShellAPI) Handshake(ctx context.Context) error {
	out, err := p.run(ctx, "Get-WinGetVersion")
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Errorf("handshake: module returned no version")
	}
	return nil
}

// Catalogs lists configured sources.
func (p *PowerShellAPI) Catalogs(ctx context.Context) ([]CatalogRef, error) {
	out, err := p.run(ctx, "ConvertTo-Json -Compress -InputObject @(Get-WinGetSource | Select-Object Name,Type)")
	if err != nil {
		return nil, fmt.Errorf("listing catalogs: %w", err)
	}
	var refs []CatalogRef
	eachObject(out, func(r gjson.Result) {
		if name := r.Get("Name").String(); name != "" {
			refs = append(refs, CatalogRef{Name: name, Type: r.Get("Type").String()})
		}
	})
	return refs, nil
}

// FindInstalled searches installed packages correlated with remote.
func (p *PowerShellAPI) FindInstalled(ctx context.Context, remote CatalogRef, f Filter) ([]Match, error) {
	script := "ConvertTo-Json -Compress -InputObject @(Get-WinGetPackage -Source " + quote(remote.Name) +
		filterArgs(f) + " | Select-Object Id,Name,Source)"
	out, err := p.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("searching installed packages: %w", err)
	}
	return parseMatches(out), nil
}

// Find searches one remote catalog.
func (p *PowerShellAPI) Find(ctx context.Context, catalog CatalogRef, f Filter) ([]Match, error) {
	script := "ConvertTo-Json -Compress -InputObject @(Find-WinGetPackage -Source " + quote(catalog.Name) +
		filterArgs(f) + " | Select-Object Id,Name,Source)"
	out, err := p.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", catalog.Name, err)
	}
	return parseMatches(out), nil
}

func (p *PowerShellAPI) run(ctx context.Context, command string) (string, error) {
	res, err := p.client.Run(ctx,
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-Command", psPrelude+command)
	if err != nil {
		return "", err
	}
	if res.ExitCode != winget.CodeSuccess {
		return "", fmt.Errorf("powershell exited with %s: %s", res.ExitCode, strings.Join(res.Stderr, " "))
	}
	return res.Output(), nil
}

// filterArgs renders f as cmdlet parameters. An empty contains filter
// matches everything, so no -Id parameter is passed at all.
func filterArgs(f Filter) string {
	if f.Field != FieldID || (f.Value == "" && f.Option == MatchContainsCaseInsensitive) {
		return ""
	}
	return " -Id " + quote(f.Value) + " -MatchOption " + f.Option.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func parseMatches(out string) []Match {
	var matches []Match
	eachObject(out, func(r gjson.Result) {
		id := r.Get("Id").String()
		if id == "" {
			return
		}
		matches = append(matches, Match{
			ID:            id,
			Name:          r.Get("Name").String(),
			Source:        r.Get("Source").String(),
			InstallerType: strings.ToLower(r.Get("InstallerType").String()),
		})
	})
	return matches
}

// eachObject visits the objects of a JSON array, or a lone object.
func eachObject(out string, fn func(gjson.Result)) {
	out = strings.TrimSpace(out)
	if out == "" || !gjson.Valid(out) {
		return
	}
	r := gjson.Parse(out)
	if r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			if v.IsObject() {
				fn(v)
			}
			return true
		})
		return
	}
	if r.IsObject() {
		fn(r)
	}
}
