package main

import (
	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/api"
	"vehicle-scan/pkg/config"
	"vehicle-scan/pkg/imageproc"
	"vehicle-scan/pkg/report"
	"vehicle-scan/pkg/report/pdf"
	"vehicle-scan/pkg/services/extract"
	"vehicle-scan/pkg/services/intake"
	"vehicle-scan/pkg/services/reporting"
	"vehicle-scan/pkg/store"
)

func main() {
	// Load environment variables
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Fatal("Error loading .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid logging configuration")
	}

	// Set up database connection; the schema is migrated by store.New
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	vehicles, err := store.New(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	layout, err := cfg.Layout()
	if err != nil {
		log.WithError(err).Fatal("Invalid report layout")
	}
	engine, err := report.NewEngine(layout, pdf.NewMeasurer(), log)
	if err != nil {
		log.WithError(err).Fatal("Invalid report layout")
	}

	var extractor extract.Extractor
	if cfg.ExtractionEnabled() {
		extractor = extract.NewAzureExtractor(cfg.AzureVisionEndpoint, cfg.AzureVisionKey, log)
	} else {
		log.Info("AZURE_VISION_ENDPOINT/AZURE_VISION_KEY not set, photo extraction disabled")
	}

	normalizer := imageproc.NewNormalizer(cfg.ImageMaxDimension, cfg.ImageQuality, log)
	handler := api.NewHandler(
		intake.NewService(vehicles, normalizer, extractor, cfg.ImageWorkers, log),
		reporting.NewService(vehicles, engine, log),
		vehicles,
		cfg.MaxUploadBytes,
		log,
	)

	// Set up Gin router
	r := api.NewRouter(handler)

	// Start the server
	log.WithFields(logrus.Fields{"port": cfg.Port, "driver": cfg.DatabaseDriver}).Info("vehicle-scan listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
