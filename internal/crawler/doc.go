// Package crawler defines the core types shared across the harvester:
// sessions, documents, attachments, the ports implemented by the fetchers
// and stores, and the error taxonomy.
package crawler
