// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fragment divide payloads grandes demais em corpos de frame
// encadeados por FOLLOWS na saída, e os remonta em um único payload lógico
// na entrada.
package fragment

import (
	"bytes"

	"github.com/nishisan-dev/rsocket-core/internal/frame"
)

// metadataLengthPrefixSize é o prefixo u24 que o codec escreve antes dos
// bytes de metadata sempre que FlagMetadata está setado; os fragmentos
// reservam espaço para ele de modo que um frame fragmentado nunca exceda o
// MTU negociado depois de re-encodado.
const metadataLengthPrefixSize = 3

// frameOverhead é o que todo frame fragmentado ocupa além de metadata e data:
// o prefixo u24 de comprimento (3), o header comum (6) e o initial-N de
// REQUEST_STREAM/REQUEST_CHANNEL (4), reservado em todo chunk para que nenhum
// tipo de frame passe do MTU.
const frameOverhead = 3 + 6 + 4

// Chunk é um elo de um payload fragmentado, pronto para ser embrulhado no
// tipo de frame concreto que o caller está emitindo (o primeiro chunk mantém
// o tipo original; os seguintes vão como PAYLOAD com NEXT).
type Chunk struct {
	Payload frame.Payload
	// Follows é true para todo chunk menos o último da cadeia.
	Follows bool
}

// Split divide p em uma cadeia de Chunks tal que nenhum frame re-encodado
// (frameOverhead, prefixo de metadata, metadata e data) exceda mtu bytes,
// desde que mtu seja maior que frameOverhead. Os bytes de metadata são
// esgotados antes dos bytes de data, conforme a ordem de fragmentação do
// wire. Retorna um único chunk (Follows=false) se p já cabe nesse limite.
func Split(p frame.Payload, mtu int) []Chunk {
	room := mtu - frameOverhead
	if room <= 0 {
		room = 1
	}

	metadata, data := p.Metadata, p.Data
	var chunks []Chunk
	for {
		budget := room
		var chunkMeta []byte

		carriesMetadata := p.HasMetadata() && metadataRemains(metadata, chunks)
		if carriesMetadata {
			budget -= metadataLengthPrefixSize
			if budget < 0 {
				budget = 0
			}
			take := len(metadata)
			if take > budget {
				take = budget
			}
			chunkMeta = metadata[:take]
			metadata = metadata[take:]
			budget -= take
		}

		take := len(data)
		if take > budget {
			take = budget
		}
		chunkData := data[:take]
		data = data[take:]

		var payload frame.Payload
		payload.Data = chunkData
		if p.HasMetadata() {
			payload.Metadata = chunkMeta
		}

		done := len(metadata) == 0 && len(data) == 0
		chunks = append(chunks, Chunk{Payload: payload, Follows: !done})
		if done {
			break
		}
	}
	return chunks
}

// metadataRemains reporta se este é o primeiro chunk sendo produzido (caso
// em que metadata, mesmo vazio-porém-presente, é carregado uma vez) ou se
// ainda restam bytes de metadata não consumidos.
func metadataRemains(metadata []byte, chunksSoFar []Chunk) bool {
	if len(chunksSoFar) == 0 {
		return true
	}
	return len(metadata) > 0
}

// Reassembler acumula cadeias FOLLOWS de entrada por stream id e emite um
// payload lógico quando um frame sem FOLLOWS fecha a cadeia.
type Reassembler struct {
	states map[frame.StreamID]*chainState
}

type chainState struct {
	initialType frame.Type
	hasMetadata bool
	metadata    bytes.Buffer
	data        bytes.Buffer
}

// NewReassembler retorna um Reassembler vazio.
func NewReassembler() *Reassembler {
	return &Reassembler{states: make(map[frame.StreamID]*chainState)}
}

// Begin registra o primeiro fragmento de uma cadeia para streamID.
// initialType é o tipo sob o qual a mensagem lógica será reportada quando a
// remontagem completar (o tipo REQUEST_*/PAYLOAD original, não as
// continuações PAYLOAD que o seguem).
func (r *Reassembler) Begin(streamID frame.StreamID, initialType frame.Type, hasMetadata bool, p frame.Payload) {
	st := &chainState{initialType: initialType, hasMetadata: hasMetadata}
	st.metadata.Write(p.Metadata)
	st.data.Write(p.Data)
	r.states[streamID] = st
}

// InProgress reporta se streamID tem uma cadeia de fragmentos aguardando
// conclusão.
func (r *Reassembler) InProgress(streamID frame.StreamID) bool {
	_, ok := r.states[streamID]
	return ok
}

// Continue acrescenta mais um fragmento a uma cadeia em andamento. follows
// indica se ainda virão mais fragmentos (a flag FOLLOWS deste frame). No
// fragmento final retorna o tipo remontado, o payload combinado, done=true,
// e remove o estado da cadeia.
func (r *Reassembler) Continue(streamID frame.StreamID, frameType frame.Type, follows bool, p frame.Payload) (frame.Type, frame.Payload, bool, error) {
	st, ok := r.states[streamID]
	if !ok {
		return 0, frame.Payload{}, false, ErrMissingFirstFragment
	}
	if frameType != frame.TypePayload {
		return 0, frame.Payload{}, false, ErrFragmentTypeMismatch
	}

	st.metadata.Write(p.Metadata)
	st.data.Write(p.Data)

	if follows {
		return 0, frame.Payload{}, false, nil
	}

	delete(r.states, streamID)
	out := frame.Payload{Data: append([]byte(nil), st.data.Bytes()...)}
	if st.hasMetadata {
		out.Metadata = append([]byte(nil), st.metadata.Bytes()...)
	}
	return st.initialType, out, true, nil
}

// Abandon descarta qualquer cadeia em andamento para streamID, ex: em
// cancelamento ou erro do stream.
func (r *Reassembler) Abandon(streamID frame.StreamID) {
	delete(r.states, streamID)
}
