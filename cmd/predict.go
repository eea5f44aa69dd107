package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"xray-detect/config"
	"xray-detect/internal/domain/entity"
)

var (
	pneumoniaStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	normalStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22C55E"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#B91C1C"))
	faintStyle     = lipgloss.NewStyle().Faint(true)
)

func newPredictCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify one chest X-ray image and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			appContainer, err := buildContainer(cfg)
			if err != nil {
				return err
			}
			defer appContainer.Close()

			upload, err := fileUpload(args[0])
			if err != nil {
				return err
			}

			ctx := contextOrBackground(cmd.Context())
			const sessionID = "cli"

			svc := appContainer.DetectionService
			if _, err := svc.Submit(ctx, sessionID, upload); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(entity.UserMessage(err)))
				return err
			}

			session, err := svc.Wait(ctx, sessionID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSession(session))
			if session.State == entity.StateError {
				return errors.New(session.Error)
			}
			return nil
		},
	}
}

// fileUpload описывает файл на диске. MIME берётся по расширению,
// иначе по первым байтам файла.
func fileUpload(path string) (entity.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return entity.Upload{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return entity.Upload{}, fmt.Errorf("%s is a directory", path)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType, err = sniffContentType(path)
		if err != nil {
			return entity.Upload{}, err
		}
	}

	return entity.Upload{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func sniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}

// renderSession печатает итог попытки
func renderSession(s entity.Session) string {
	switch s.State {
	case entity.StateSuccess:
		if s.Result == nil {
			break
		}
		style := normalStyle
		if s.Result.HasPneumonia() {
			style = pneumoniaStyle
		}
		return style.Render(s.Result.Headline()) + "\n" + faintStyle.Render(s.Result.ConfidenceText())
	case entity.StateError:
		return errorStyle.Render("Error: " + s.Error)
	}
	return faintStyle.Render(string(s.State))
}
