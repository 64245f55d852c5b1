package memory

import "notes-embedding-worker/internal/domain/ports/repository"

func chunk(article string, i int) repository.ChunkVector {
	return repository.ChunkVector{ArticleID: article, ChunkIndex: i, Vector: []float32{float32(i)}, Text: "chunk"}
}
