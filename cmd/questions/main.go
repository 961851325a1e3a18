package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mroshb/trivia_bot/internal/config"
	"github.com/mroshb/trivia_bot/internal/database"
	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/questionbank"
	"github.com/mroshb/trivia_bot/internal/repositories"
	"github.com/mroshb/trivia_bot/internal/security"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/urfave/cli/v2"
)

const (
	formatYAML = "yaml"
	formatXLSX = "xlsx"

	maxFileBytes = 10 << 20
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}
	logger.Init()
	defer logger.Sync()

	app := &cli.App{
		Name:  "questions",
		Usage: "manage the trivia question bank",
		Commands: []*cli.Command{
			importCommand(),
			inspectCommand(),
			tokenCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "replace the question bank with the contents of a YAML or XLSX file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "yaml or xlsx, detected from the extension when empty"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("missing question file", 2)
			}
			format, err := formatOf(path, c.String("format"))
			if err != nil {
				return err
			}

			f, err := openChecked(path)
			if err != nil {
				return err
			}
			defer f.Close()
			questions, err := parse(f, format)
			if err != nil {
				return err
			}

			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			if err := questionbank.Import(c.Context, repositories.NewQuestionRepository(db), questions); err != nil {
				return err
			}
			fmt.Printf("Imported %d questions from %s\n", len(questions), path)
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the first rows of every sheet of a workbook",
		ArgsUsage: "<file.xlsx>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rows", Value: 5, Usage: "rows to print per sheet"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return cli.Exit("missing workbook", 2)
			}
			if !security.ValidateFileType(path, []string{".xlsx"}) {
				return cli.Exit("inspect reads .xlsx workbooks only", 2)
			}
			f, err := openChecked(path)
			if err != nil {
				return err
			}
			defer f.Close()

			sheets, err := questionbank.Inspect(f, c.Int("rows"))
			if err != nil {
				return err
			}
			printSheets(c.App.Writer, sheets)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an admin token for the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Value: "operator"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if len(cfg.JWTSecret) < 32 {
				return cli.Exit("JWT_SECRET_KEY must be at least 32 characters", 2)
			}
			token, err := security.GenerateJWT(c.String("subject"), security.RoleAdmin, cfg.JWTSecret, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func formatOf(path, explicit string) (string, error) {
	format := strings.ToLower(explicit)
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = formatYAML
		case ".xlsx":
			format = formatXLSX
		}
	}
	switch format {
	case formatYAML, formatXLSX:
		return format, nil
	default:
		return "", fmt.Errorf("cannot tell the format of %s, pass --format yaml or xlsx", path)
	}
}

// openChecked opens path after checking it is a regular file of sane size.
func openChecked(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() || !security.ValidateFileSize(info.Size(), maxFileBytes) {
		return nil, fmt.Errorf("%s is not a question file of at most %d bytes", path, maxFileBytes)
	}
	return os.Open(path)
}

func parse(r io.Reader, format string) ([]models.Question, error) {
	if format == formatXLSX {
		return questionbank.ParseXLSX(r)
	}
	return questionbank.ParseYAML(r)
}

func printSheets(w io.Writer, sheets []questionbank.Sheet) {
	for _, s := range sheets {
		fmt.Fprintf(w, "Sheet: %s\n", s.Name)
		for i, row := range s.Rows {
			fmt.Fprintf(w, "  %d: %s\n", i+1, strings.Join(row, " | "))
		}
	}
}
