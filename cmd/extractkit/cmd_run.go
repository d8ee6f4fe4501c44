package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"extractkit/internal/envelope"
	"extractkit/internal/format"
	"extractkit/internal/markdown"
	"extractkit/internal/raster"
	"extractkit/internal/service"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

var runFlags struct {
	taskConfig string
	visualize  bool
	lang       string
	merge      bool
	html       bool
	dpi        int
	imageFmt   string
	save       bool
	output     string
	outline    bool
}

// runner invokes one operation on a staged upload.
type runner func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error)

var runners = map[string]runner{
	"layout-detection": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		d := taskspec.DefaultDetection()
		d.Visualize = runFlags.visualize
		return svc.LayoutDetection(ctx, u, d)
	},
	"ocr": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		o := taskspec.DefaultOCR()
		if runFlags.lang != "" {
			o.Lang = runFlags.lang
		}
		return svc.OCR(ctx, u, o, runFlags.visualize)
	},
	"formula-detection": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		d := taskspec.DefaultDetection()
		d.Visualize = runFlags.visualize
		return svc.FormulaDetection(ctx, u, d)
	},
	"formula-recognition": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		return svc.FormulaRecognition(ctx, u, taskspec.DefaultFormulaRecognition(), runFlags.visualize)
	},
	"table-parsing": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		return svc.TableParsing(ctx, u, runFlags.visualize)
	},
	"pdf2markdown": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		return svc.PDF2Markdown(ctx, u, service.MarkdownOptions{Merge: runFlags.merge, RenderHTML: runFlags.html})
	},
	"run-project": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		var content []byte
		if runFlags.taskConfig != "" {
			data, err := os.ReadFile(runFlags.taskConfig)
			if err != nil {
				return nil, fmt.Errorf("read task config: %w", err)
			}
			content = data
		}
		return svc.RunProject(ctx, u, content)
	},
	"pdf-to-images": func(ctx context.Context, svc *service.Service, u workspace.Upload) (any, error) {
		if runFlags.save {
			return svc.PDFToImagesSave(ctx, u, runFlags.dpi, runFlags.imageFmt)
		}
		return svc.PDFToImages(ctx, u, runFlags.dpi, runFlags.imageFmt)
	},
}

func operationNames() []string {
	names := make([]string, 0, len(runners))
	for name := range runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var runCmd = &cobra.Command{
	Use:   "run <operation> <file>",
	Short: "Run one operation on a local file and print the envelope",
	Long: "Runs an operation in-process, exactly as the API would, and prints the\n" +
		"JSON envelope. Operations: " + strings.Join(operationNames(), ", ") + ".",
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.taskConfig, "task-config", "", "YAML task configuration (run-project)")
	f.BoolVar(&runFlags.visualize, "visualize", false, "Return annotated images")
	f.StringVar(&runFlags.lang, "lang", "", "OCR language (ocr)")
	f.BoolVar(&runFlags.merge, "merge", true, "Merge stage results into Markdown (pdf2markdown)")
	f.BoolVar(&runFlags.html, "html", false, "Also render merged Markdown as HTML (pdf2markdown)")
	f.IntVar(&runFlags.dpi, "dpi", raster.DefaultDPI, "Render resolution (pdf-to-images)")
	f.StringVar(&runFlags.imageFmt, "image-format", "png", "png or jpg (pdf-to-images)")
	f.BoolVar(&runFlags.save, "save", false, "Persist rendered pages under the data dir (pdf-to-images)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Write the envelope to this file instead of stdout")
	f.BoolVar(&runFlags.outline, "outline", false, "Print the heading outline of merged Markdown instead of JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	op, path := args[0], args[1]
	run, ok := runners[op]
	if !ok {
		return fmt.Errorf("unknown operation %q (want one of %s)", op, strings.Join(operationNames(), ", "))
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := run(cmd.Context(), a.svc, workspace.Upload{Filename: filepath.Base(path), Body: f})
	if err != nil {
		return err
	}
	if runFlags.outline {
		return printOutline(cmd.OutOrStdout(), res)
	}
	return writeEnvelope(cmd.OutOrStdout(), runFlags.output, res)
}

func writeEnvelope(stdout io.Writer, path string, res any) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// printOutline lists the headings of the merged Markdown in res.
func printOutline(w io.Writer, res any) error {
	env, ok := res.(envelope.Envelope)
	if !ok || !env.Success {
		return writeEnvelope(w, "", res)
	}
	results, _ := env.Results.(map[string]any)
	md, ok := results["markdown"].(string)
	if !ok {
		return fmt.Errorf("result carries no merged markdown")
	}
	fmt.Fprint(w, format.Outline(markdown.Outline(md), format.ASCII))
	fmt.Fprintln(w)
	return nil
}
