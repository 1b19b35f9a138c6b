package main

import (
	"strings"

	"github.com/logsieve/logsieve/internal/script"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// expandAliases replaces every -a NAME / --alias NAME with the flag
// bundle of that name, looked up through alias. Expansion is a single
// pass, so a bundle cannot pull in another bundle.
func expandAliases(args []string, alias func(string) ([]string, bool)) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}

		var name string
		switch {
		case arg == "-a" || arg == "--alias":
			if i+1 >= len(args) {
				return nil, lserrors.Usage("%s needs an alias name", arg)
			}
			i++
			name = args[i]
		case strings.HasPrefix(arg, "--alias="):
			name = strings.TrimPrefix(arg, "--alias=")
		case strings.HasPrefix(arg, "-a") && len(arg) > 2 && !strings.HasPrefix(arg, "--"):
			name = arg[2:]
		default:
			out = append(out, arg)
			continue
		}

		bundle, ok := alias(name)
		if !ok {
			return nil, lserrors.Usage("unknown alias %q (define it under aliases: in the config file)", name)
		}
		out = append(out, bundle...)
	}
	return out, nil
}

// stageFlags maps the stage flag spellings to their kinds.
var stageFlags = map[string]script.StageKind{
	"--filter": script.StageFilter,
	"--exec":   script.StageExec,
	"-e":       script.StageExec,
	"--begin":  script.StageBegin,
	"--end":    script.StageEnd,
}

// collectStages walks the raw argv and returns the stages in command
// line order. Cobra flattens repeated flags per name, which would lose
// the interleaving of --filter and --exec; the scan preserves it.
func collectStages(args []string) []script.Stage {
	var stages []script.Stage
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}

		name, inline, hasEq := strings.Cut(arg, "=")
		kind, ok := stageFlags[name]
		if !ok {
			// -eEXPR shorthand form
			if strings.HasPrefix(arg, "-e") && len(arg) > 2 && !strings.HasPrefix(arg, "--") {
				stages = append(stages, script.Stage{Kind: script.StageExec, Source: arg[2:]})
			}
			continue
		}

		if hasEq {
			stages = append(stages, script.Stage{Kind: kind, Source: inline})
			continue
		}
		if i+1 < len(args) {
			i++
			stages = append(stages, script.Stage{Kind: kind, Source: args[i]})
		}
	}
	return stages
}
