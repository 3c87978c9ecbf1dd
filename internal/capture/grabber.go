package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

const filePlaceholder = "{file}"

const windowsGrabScript = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing; ` +
	`$b=[System.Windows.Forms.Screen]::PrimaryScreen.Bounds; ` +
	`$bmp=New-Object System.Drawing.Bitmap $b.Width,$b.Height; ` +
	`$g=[System.Drawing.Graphics]::FromImage($bmp); ` +
	`$g.CopyFromScreen($b.Location,[System.Drawing.Point]::Empty,$b.Size); ` +
	`$bmp.Save('{file}',[System.Drawing.Imaging.ImageFormat]::Png)`

// CommandGrabber shells out to the OS screenshot tool and decodes the file
// it writes. The first tool found on PATH that succeeds wins.
type CommandGrabber struct {
	commands [][]string
	logger   *zap.Logger
}

// NewCommandGrabber uses command when set ({file} marks the output path,
// appended when absent), otherwise the platform's known tools.
func NewCommandGrabber(command []string, logger *zap.Logger) *CommandGrabber {
	var commands [][]string
	if len(command) > 0 {
		commands = [][]string{command}
	} else {
		commands = defaultCommands(runtime.GOOS)
	}
	return &CommandGrabber{commands: commands, logger: logger}
}

func defaultCommands(goos string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{{"screencapture", "-x", "-t", "png", filePlaceholder}}
	case "windows":
		return [][]string{{"powershell", "-NoProfile", "-NonInteractive", "-Command", windowsGrabScript}}
	default:
		return [][]string{
			{"grim", filePlaceholder},
			{"gnome-screenshot", "-f", filePlaceholder},
			{"scrot", "-o", filePlaceholder},
			{"import", "-window", "root", filePlaceholder},
		}
	}
}

func (g *CommandGrabber) Grab(ctx context.Context) (image.Image, error) {
	tmp, err := os.CreateTemp("", "capture-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	var errs []error
	for _, command := range g.commands {
		args := expandCommand(command, path)
		if _, err := exec.LookPath(args[0]); err != nil {
			errs = append(errs, err)
			continue
		}

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			g.logger.Debug("Screenshot tool failed",
				zap.String("tool", args[0]),
				zap.String("output", strings.TrimSpace(string(out))),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", args[0], err))
			continue
		}

		img, err := decodeFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", args[0], err))
			continue
		}
		return img, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no screenshot tool configured")
	}
	return nil, fmt.Errorf("no screenshot tool succeeded: %w", errors.Join(errs...))
}

func expandCommand(command []string, path string) []string {
	args := make([]string, 0, len(command)+1)
	replaced := false
	for _, arg := range command {
		if strings.Contains(arg, filePlaceholder) {
			arg = strings.ReplaceAll(arg, filePlaceholder, path)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}
