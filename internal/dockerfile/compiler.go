// Package dockerfile compiles a specification into Dockerfile text.
package dockerfile

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/animus-inspect/internal/specification"
)

const (
	HomeDir    = "/home/inspector"
	Entrypoint = HomeDir + "/entrypoint"
	ScriptPath = HomeDir + "/script"
	// UnprivilegedUser is the numeric uid the image finally runs as.
	UnprivilegedUser = "1042"
)

//go:embed assets/entrypoint.sh
var entrypointScript string

// EntrypointScript returns the runner materialized next to the script.
func EntrypointScript() string {
	return entrypointScript
}

type Artifact struct {
	Dockerfile         string `json:"dockerfile"`
	ExecutionRequested bool   `json:"execution_requested"`
}

type Compiler struct {
	Fetcher      ScriptFetcher
	TrustedHosts []string
	Logger       *slog.Logger
}

// Compile renders spec. It either returns a complete artifact or an error;
// validation problems come back as *specification.ValidationError and
// unreachable scripts as *ScriptFetchError.
func (c *Compiler) Compile(ctx context.Context, spec specification.Specification) (Artifact, error) {
	if err := specification.Validate(spec); err != nil {
		return Artifact{}, err
	}

	var b builder
	b.line("FROM " + strings.TrimSpace(spec.Base))
	b.line("USER root")

	if len(spec.Environment) > 0 {
		pairs := make([]string, 0, len(spec.Environment))
		for _, ev := range spec.Environment {
			pairs = append(pairs, ev.Name+"="+envQuote(ev.Value))
		}
		b.line("ENV " + strings.Join(pairs, " "))
	}

	if spec.Update {
		b.line("RUN dnf update -y || yum update -y || apt-get update -y")
	}

	if len(spec.Packages) > 0 {
		b.line("RUN { \\\n" +
			"  { [ -f '/usr/bin/dnf' ] && INSTALL_CMD='dnf install -y'; } || \\\n" +
			"  { [ -f '/usr/bin/yum' ] && INSTALL_CMD='yum install -y'; } || \\\n" +
			"  { INSTALL_CMD='apt-get -y install'; } \\\n" +
			"}; $INSTALL_CMD " + shellWords(spec.Packages))
	}

	if len(spec.PythonPackages) > 0 {
		b.line("RUN pip3 install --force-reinstall --upgrade " + shellWords(spec.PythonPackages))
	}

	for _, f := range spec.Files {
		b.line(writeFile(f.Path, f.Content))
	}

	if spec.Python != nil || spec.Script != nil {
		b.line("RUN mkdir -p " + HomeDir + " && chmod -R 777 " + HomeDir)
	}

	if spec.Python != nil {
		if err := c.python(&b, spec.Python); err != nil {
			return Artifact{}, err
		}
	}

	if spec.Script != nil {
		script, err := c.resolveScript(ctx, *spec.Script)
		if err != nil {
			return Artifact{}, err
		}
		b.line(writeFile(ScriptPath, script))
		b.line(writeFile(Entrypoint, entrypointScript))
		b.line("RUN chmod a+x " + ScriptPath + " " + Entrypoint +
			" && touch " + HomeDir + "/script.stderr " + HomeDir + "/script.stdout" +
			" && chmod 777 " + HomeDir + "/script.stderr " + HomeDir + "/script.stdout")
		b.line(`CMD ["` + Entrypoint + `"]`)
	}

	b.line("USER " + UnprivilegedUser)
	b.line("WORKDIR " + HomeDir)

	return Artifact{Dockerfile: b.String(), ExecutionRequested: spec.Script != nil}, nil
}

func (c *Compiler) python(b *builder, py *specification.Python) error {
	if len(py.Requirements) == 0 && len(py.RequirementsLocked) == 0 {
		c.logger().Debug("python section without requirements, nothing to install")
		return nil
	}

	pipfile, err := renderPipfile(py.Requirements)
	if err != nil {
		return err
	}
	lock, err := renderLock(py.RequirementsLocked)
	if err != nil {
		return err
	}
	b.line(writeFile(HomeDir+"/Pipfile", pipfile))
	b.line(writeFile(HomeDir+"/Pipfile.lock", lock))
	b.line(writeFile("/etc/pip.conf", renderPipConf(trustedHosts(c.TrustedHosts, py.Requirements))))

	switch py.Manager() {
	case specification.PackageManagerPipenv:
		b.line("RUN cd " + HomeDir + " && pipenv install --deploy")
	default:
		b.line("RUN cd " + HomeDir + " && python3 -m venv venv/ && . venv/bin/activate && micropipenv install --deploy")
	}
	return nil
}

func (c *Compiler) resolveScript(ctx context.Context, script string) (string, error) {
	if !isScriptURL(script) {
		return script, nil
	}
	if c.Fetcher == nil {
		return "", &ScriptFetchError{URL: script, Err: fmt.Errorf("remote scripts are disabled")}
	}
	c.logger().Debug("fetching script", "url", script)
	return c.Fetcher.Fetch(ctx, script)
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

type builder struct {
	strings.Builder
}

func (b *builder) line(directive string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(directive)
}

func (b *builder) String() string {
	return b.Builder.String() + "\n"
}

// writeFile materializes content byte-for-byte. The payload travels base64
// encoded so the shell never sees quotes, newlines or $ in it.
func writeFile(path, content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf("RUN mkdir -p \"$(dirname %s)\" && echo '%s' | base64 -d > %s",
		shellQuote(path), encoded, shellQuote(path))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func shellWords(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, shellQuote(strings.TrimSpace(w)))
	}
	return strings.Join(quoted, " ")
}

// envQuote renders an ENV value without letting Docker substitute variables.
func envQuote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
