// Package connector mirrors a published release into external storage.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: Defines the Destination interface every mirror target implements,
//     plus the metadata keys attached to mirrored objects.
//
//   - registry: Maps a destination type ("s3", "gcs", "file") to its factory.
//     Destinations self-register during initialization.
//
//   - destinations: Contains the implementations. Importing the destinations
//     package registers all of them.
//
// The Mirror type in this package ties a Destination to a release: it uploads
// the archive and the release notes under a dated key prefix.
//
// # Object Layout
//
// For a prefix "geonames" and a release on 2024-05-17 the objects are:
//
//	geonames/2024-05-17/allCountries.zip
//	geonames/2024-05-17/release_notes.txt
//
// Every object carries the metadata keys md5, entries and countries.
//
// # Example Usage
//
//	dest, err := registry.CreateDestination(ctx, &cfg.Mirror, logger)
//	if err != nil {
//		return err
//	}
//	defer dest.Close()
//
//	locations, err := connector.NewMirror(dest, cfg.Mirror.Prefix, logger).
//		Publish(ctx, statistics, releaseDate, archivePath, notesPath)
package connector
