// Package crawler holds the domain model shared by the crawl, index and
// search subsystems: sites, pages, lemmas and index entries, the fetch
// collaborator contract with its failure classes, and the link filtering
// and visited-set helpers used by crawl tasks.
package crawler
