package gossip

// GossipSub topic names. The chain ID is baked into each topic so nodes of
// different chains never exchange consensus traffic.
const (
	topicProposalFmt = "/klingbft/%s/proposal/1.0.0"
	topicVoteFmt     = "/klingbft/%s/vote/1.0.0"
)

// inboundBuffer is the per-topic channel depth toward the engine. The
// engine drops stale messages itself, so overflow just sheds load.
const inboundBuffer = 256
