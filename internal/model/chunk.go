package model

// Chunk is one reassembled logical record: the joined text of one or more
// physical lines plus its provenance.
type Chunk struct {
	// Text is the joined chunk body, terminator-free.
	Text string

	// File is the source name ("-" for stdin).
	File string

	// LNum is the 1-based line number of the chunk's first line.
	LNum int
}

// Batch is a bounded, ordered group of chunks dispatched to one worker.
// Seq numbers start at 0 and increase by one per batch; the sink emits
// results strictly in Seq order.
type Batch struct {
	Seq    int64
	Chunks []Chunk
}
