package model

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrDocumentFetch   = errors.New("document fetch failed")
	ErrDocumentParse   = errors.New("document parse failed")
	ErrIndexBuild      = errors.New("index build failed")
	ErrRewrite         = errors.New("query rewrite failed")
	ErrAnswer          = errors.New("answer generation failed")
	ErrConfiguration   = errors.New("configuration invalid")
	ErrNoKnowledgeBase = errors.New("no knowledge base has been built")
)
