// cmd/evaluate/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ui-annotator/internal/auth"
	"ui-annotator/internal/backend"
	"ui-annotator/internal/config"
	"ui-annotator/internal/evaluate"
	"ui-annotator/internal/models"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s predict -images dir [-out dir] [-model id] [-concurrency n] [-max n]\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "       %s evaluate -truth dir -pred dir [-iou 0.5] [-output report.json] [-show-errors]\n", filepath.Base(os.Args[0]))
	os.Exit(2)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "predict":
		runPredict(ctx, os.Args[2:])
	case "evaluate":
		runEvaluate(os.Args[2:])
	default:
		usage()
	}
}

func runPredict(ctx context.Context, args []string) {
	cfg := config.LoadWorkspace()

	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	var imagesDir, outDir, model string
	var concurrency, maxImages int
	fs.StringVar(&imagesDir, "images", "", "directory of screenshots (png/jpg/jpeg/webp)")
	fs.StringVar(&outDir, "out", "predictions", "directory for <stem>_annotations.json files")
	fs.StringVar(&model, "model", cfg.DefaultModel, "model id")
	fs.IntVar(&concurrency, "concurrency", evaluate.DefaultConcurrency, "predictions in flight")
	fs.IntVar(&maxImages, "max", evaluate.MaxImages, "maximum number of images")
	fs.Parse(args)
	if imagesDir == "" {
		usage()
	}
	if maxImages <= 0 || maxImages > evaluate.MaxImages {
		maxImages = evaluate.MaxImages
	}

	opts := []backend.Option{backend.WithTimeout(cfg.PredictTimeout)}
	if cfg.ServiceSecret != "" {
		opts = append(opts, backend.WithTokenSource(auth.NewServiceSigner(cfg.ServiceSecret, "evaluate")))
	}
	client := backend.New(cfg.BackendURL, opts...)

	paths, err := evaluate.FindImages(imagesDir, maxImages)
	if err != nil {
		log.Fatal(err)
	}
	if len(paths) == 0 {
		log.Printf("No images found in %s", imagesDir)
		return
	}
	log.Printf("Found %d images to process", len(paths))

	start := time.Now()
	bp := evaluate.NewBatchPredictor(client, model)
	bp.Concurrency = concurrency
	preds := bp.Run(ctx, paths)
	elapsed := time.Since(start)
	log.Printf("Completed in %.1fs, %.1fs per image", elapsed.Seconds(), elapsed.Seconds()/float64(len(paths)))

	saved, err := evaluate.Save(outDir, preds)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Saved %d prediction files to %s", saved, outDir)
}

func runEvaluate(args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	var truthDir, predDir, output string
	var iou float64
	var showErrors bool
	fs.StringVar(&truthDir, "truth", "", "directory of ground truth exports")
	fs.StringVar(&predDir, "pred", "", "directory of prediction exports")
	fs.Float64Var(&iou, "iou", evaluate.DefaultIoUThreshold, "IoU threshold for a match")
	fs.StringVar(&output, "output", "", "write the JSON report to this path")
	fs.BoolVar(&showErrors, "show-errors", false, "include FP and FN columns")
	fs.Parse(args)
	if truthDir == "" || predDir == "" {
		usage()
	}
	if iou < 0 || iou > 1 {
		log.Fatalf("IoU threshold must be within [0, 1], got %v", iou)
	}

	truthDocs, err := evaluate.LoadDir(truthDir)
	if err != nil {
		log.Fatal(err)
	}
	predDocs, err := evaluate.LoadDir(predDir)
	if err != nil {
		log.Fatal(err)
	}

	res := evaluate.Evaluate(
		evaluate.BoxesBySource(truthDocs, models.SourceUser),
		evaluate.BoxesBySource(predDocs, models.SourcePrediction),
		iou,
	)
	if err := evaluate.WriteTable(os.Stdout, res, showErrors); err != nil {
		log.Fatal(err)
	}

	if output != "" {
		rep := evaluate.NewReport(res, evaluate.Params{TruthDir: truthDir, PredDir: predDir, IoUThreshold: iou})
		if err := evaluate.WriteReport(output, rep); err != nil {
			log.Fatal(err)
		}
		log.Printf("Report written to %s", output)
	}
}
