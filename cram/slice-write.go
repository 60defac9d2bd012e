// elCRAM: a high-performance library for reading and writing CRAM files.
// Copyright (c) 2019-2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elcram/blob/master/LICENSE.txt>.

package cram

import (
	"crypto/md5"
	"log"
	"sort"
)

// external block content ids: 1..len(dataSeriesKeys) for the fixed
// series, the 3-byte tag key for tags, and one reserved id for an
// embedded reference block.
func seriesContentID(key string) int32 {
	return int32(dataSeriesIndex[key]) + 1
}

var embeddedRefContentID = int32(len(dataSeriesKeys)) + 1

// encodingProfile fixes the block compression method per data series
// class when writing.
type encodingProfile struct {
	nameMethod     byte
	intMethod      byte
	qualityMethod  byte
	sequenceMethod byte
	tagMethod      byte
}

func defaultEncodingProfile() encodingProfile {
	return encodingProfile{
		nameMethod:     methodNameToken,
		intMethod:      methodRans,
		qualityMethod:  methodArith,
		sequenceMethod: methodGzip,
		tagMethod:      methodGzip,
	}
}

func (p *encodingProfile) methodForContentID(id int32) byte {
	if id == embeddedRefContentID {
		return p.sequenceMethod
	}
	if id > int32(len(dataSeriesKeys)) {
		return p.tagMethod
	}
	switch dataSeriesKeys[id-1] {
	case "RN":
		return p.nameMethod
	case "QS", "QQ":
		return p.qualityMethod
	case "BA", "BB", "SC", "IN":
		return p.sequenceMethod
	default:
		return p.intMethod
	}
}

// containerPlan carries the analysis a container encode needs: the
// compression header, which series its records use, and the tag
// dictionary line of every record.
type containerPlan struct {
	header   *compressionHeader
	usage    seriesUsage
	tagLines map[string]int32
	multiRef bool
}

// recordTagKeys returns the record's tag keys in storage order.
func recordTagKeys(rec *Record) []int32 {
	keys := make([]int32, 0, len(rec.Tags))
	for _, entry := range rec.Tags {
		name := *entry.Key
		if len(name) != 3 {
			log.Panicf("invalid tag key %v; want name plus type character", name)
		}
		keys = append(keys, tagKey(name[:2], name[2]))
	}
	return keys
}

func tagLineString(keys []int32) string {
	line := make([]byte, 0, 3*len(keys))
	for _, key := range keys {
		line = append(line, byte(key>>16), byte(key>>8), byte(key))
	}
	return string(line)
}

// planContainer chooses the encodings for one container. Constant
// integer series collapse to single-symbol huffman codes in the core
// block; everything else goes to one external block per series.
func planContainer(records []*Record, refs ReferenceMap, profile *encodingProfile) *containerPlan {
	plan := &containerPlan{
		header:   newCompressionHeader(),
		usage:    newSeriesUsage(),
		tagLines: make(map[string]int32),
	}
	h := plan.header
	h.referenceRequired = refs != nil
	h.tagDictionary = [][]int32{}

	intValues := make(map[string][]int32)
	collectInt := func(key string, value int32) {
		plan.usage.mark(key)
		intValues[key] = append(intValues[key], value)
	}
	byteSeries := func(key string) {
		plan.usage.mark(key)
	}

	prevStart := int32(0)
	tagTypes := make(map[int32]bool)
	for i, rec := range records {
		if i > 0 && rec.RefID != records[0].RefID {
			plan.multiRef = true
		}
		collectInt("BF", int32(storedFlag(rec)))
		collectInt("CF", int32(rec.CRAMFlags))
		collectInt("RL", rec.ReadLength)
		if h.apDelta {
			collectInt("AP", rec.Start-prevStart)
			prevStart = rec.Start
		} else {
			collectInt("AP", rec.Start)
		}
		collectInt("RG", rec.ReadGroup)
		byteSeries("RN")

		switch {
		case rec.CRAMFlags&Detached != 0:
			collectInt("MF", mateFlags(rec))
			collectInt("NS", rec.MateRefID)
			collectInt("NP", rec.MateStart)
			collectInt("TS", rec.TemplateSize)
		case rec.CRAMFlags&MateDownstream != 0:
			collectInt("NF", rec.DistanceToMate)
		}

		keys := recordTagKeys(rec)
		line := tagLineString(keys)
		tagLine, ok := plan.tagLines[line]
		if !ok {
			tagLine = int32(len(h.tagDictionary))
			h.tagDictionary = append(h.tagDictionary, keys)
			plan.tagLines[line] = tagLine
		}
		collectInt("TL", tagLine)
		for _, key := range keys {
			tagTypes[key] = true
		}

		if !rec.IsUnmapped() {
			features := encodeFeatures(rec, refs)
			collectInt("FN", int32(len(features)))
			for i := range features {
				f := &features[i]
				byteSeries("FC")
				byteSeries("FP")
				switch f.Code {
				case FeatureReadBase:
					byteSeries("BA")
					byteSeries("QS")
				case FeatureSubstitution:
					byteSeries("BS")
				case FeatureInsertion:
					byteSeries("IN")
				case FeatureSoftClip:
					byteSeries("SC")
				case FeatureBases:
					byteSeries("BB")
				case FeatureQualities:
					byteSeries("QQ")
				case FeatureDeletion:
					collectInt("DL", f.Length)
				case FeatureRefSkip:
					collectInt("RS", f.Length)
				case FeaturePadding:
					collectInt("PD", f.Length)
				case FeatureHardClip:
					collectInt("HC", f.Length)
				case FeatureInsertBase:
					byteSeries("BA")
				case FeatureQuality:
					byteSeries("QS")
				default:
					panic(&UnsupportedError{What: "feature code", Value: int32(f.Code)})
				}
			}
			collectInt("MQ", int32(rec.MappingQuality))
			if rec.CRAMFlags&QualitiesStored != 0 {
				byteSeries("QS")
			}
		} else {
			if rec.CRAMFlags&NoSequence == 0 {
				byteSeries("BA")
			}
			if rec.CRAMFlags&QualitiesStored != 0 {
				byteSeries("QS")
			}
		}
	}
	if plan.multiRef {
		for _, rec := range records {
			collectInt("RI", rec.RefID)
		}
	}

	// integer series: a constant series needs no block at all. AP is
	// exempt because its deltas restart at every slice boundary.
	for key, values := range intValues {
		constant := key != "AP"
		for _, v := range values[1:] {
			if v != values[0] {
				constant = false
				break
			}
		}
		if constant {
			h.series[key] = huffmanEncoding([]int32{values[0]}, []int32{0})
		} else {
			h.series[key] = externalEncoding(seriesContentID(key))
		}
	}
	// byte and byte-array series
	for _, key := range []string{"FC", "BA", "QS", "BS", "FP"} {
		if plan.usage.used(key) && h.series[key] == nil {
			h.series[key] = externalEncoding(seriesContentID(key))
		}
	}
	h.series["RN"] = byteArrayStopEncoding(0, seriesContentID("RN"))
	plan.usage.mark("RN")
	for _, key := range []string{"IN", "SC", "BB", "QQ"} {
		if plan.usage.used(key) {
			id := seriesContentID(key)
			h.series[key] = byteArrayLenEncoding(externalEncoding(id), externalEncoding(id))
		}
	}

	// one byte-array-len encoding per distinct tag key
	tagKeys := make([]int32, 0, len(tagTypes))
	for key := range tagTypes {
		tagKeys = append(tagKeys, key)
	}
	sort.Slice(tagKeys, func(i, j int) bool { return tagKeys[i] < tagKeys[j] })
	for _, key := range tagKeys {
		h.tags[key] = byteArrayLenEncoding(externalEncoding(key), externalEncoding(key))
	}
	return plan
}

// storedFlag masks the mate flag bits out of the BAM flag for
// detached records; the MF series carries them instead.
func storedFlag(rec *Record) uint16 {
	if rec.CRAMFlags&Detached != 0 {
		return rec.Flag &^ (NextReversed | NextUnmapped)
	}
	return rec.Flag
}

func mateFlags(rec *Record) int32 {
	var mf int32
	if rec.Flag&NextReversed != 0 {
		mf |= MateReversed
	}
	if rec.Flag&NextUnmapped != 0 {
		mf |= MateUnmapped
	}
	return mf
}

// encodeFeatures returns the feature list to store for a mapped
// record: the explicit one when present, substitution features
// derived against the reference otherwise, or the verbatim read bases
// when no reference is available.
func encodeFeatures(rec *Record, refs ReferenceMap) []Feature {
	if rec.Features != nil {
		return rec.Features
	}
	if rec.Sequence == nil {
		return nil
	}
	if refs != nil {
		if ref := refs.Reference(rec.RefID); ref != nil {
			return rec.substitutionFeatures(ref)
		}
	}
	return []Feature{{Code: FeatureBases, Position: 1, Bytes: rec.Sequence}}
}

// referenceSpan returns how many reference bases the record covers.
func referenceSpan(rec *Record, features []Feature) int32 {
	walk := newFeatureWalk(rec)
	for i := range features {
		walk.step(&features[i])
	}
	if remaining := rec.ReadLength - walk.readPos + 1; remaining > 0 {
		walk.refPos += remaining
	}
	return walk.refPos - rec.Start
}

// encodeSlice serializes one slice: slice header block, core block,
// and external blocks, in content id order.
func encodeSlice(out []byte, records []*Record, plan *containerPlan, refs ReferenceMap,
	profile *encodingProfile, embedReference bool, recordCounter int64) []byte {

	h := plan.header

	refID := UnmappedRefID
	if len(records) > 0 {
		refID = int(records[0].RefID)
	}
	multiRef := false
	for _, rec := range records {
		if int(rec.RefID) != refID {
			multiRef = true
			refID = MultiRefID
			break
		}
	}

	// alignment start and span over the mapped records
	start, end := int32(0), int32(0)
	if refID >= 0 {
		for _, rec := range records {
			if rec.IsUnmapped() {
				continue
			}
			recEnd := rec.Start + referenceSpan(rec, encodeFeatures(rec, refs)) - 1
			if start == 0 || rec.Start < start {
				start = rec.Start
			}
			if recEnd > end {
				end = recEnd
			}
		}
	}
	span := int32(0)
	if start > 0 {
		span = end - start + 1
	}

	var sliceRef Reference
	if refID >= 0 && refs != nil {
		sliceRef = refs.Reference(int32(refID))
	}

	sw := newSeriesWriter()
	prevStart := int32(0)
	for _, rec := range records {
		encodeRecord(sw, rec, h, plan, multiRef, &prevStart, refs)
	}

	header := &block{
		contentType: sliceHeaderBlock,
		data:        nil,
	}
	s := slice{
		refID:         int32(refID),
		start:         start,
		span:          span,
		nRecords:      int32(len(records)),
		recordCounter: recordCounter,
		embeddedRefID: noEmbeddedReference,
	}
	if sliceRef != nil && span > 0 {
		refEnd := start - 1 + span
		if refEnd > sliceRef.SeqLen() {
			refEnd = sliceRef.SeqLen()
		}
		if start-1 < refEnd {
			s.refMD5 = md5.Sum(sliceRef.Range(start-1, refEnd))
		}
	}

	core := &block{contentType: coreBlock, data: sw.core.flush()}
	externals := make([]*block, 0, len(sw.order)+1)
	for _, id := range sw.order {
		externals = append(externals, &block{contentType: externalBlock, contentID: id, data: sw.ext(id).data})
	}
	if embedReference && sliceRef != nil && span > 0 {
		s.embeddedRefID = embeddedRefContentID
		externals = append(externals, &block{
			contentType: externalBlock,
			contentID:   embeddedRefContentID,
			data:        sliceRef.Range(start-1, start-1+span),
		})
	}

	s.contentIDs = make([]int32, 0, len(externals))
	for _, b := range externals {
		s.contentIDs = append(s.contentIDs, b.contentID)
	}

	hd := appendITF8(nil, s.refID)
	hd = appendITF8(hd, s.start)
	hd = appendITF8(hd, s.span)
	hd = appendITF8(hd, s.nRecords)
	hd = appendLTF8(hd, s.recordCounter)
	hd = appendITF8(hd, int32(len(externals)+1)) // core block included
	hd = appendITF8Array(hd, s.contentIDs)
	hd = appendITF8(hd, s.embeddedRefID)
	hd = append(hd, s.refMD5[:]...)
	header.data = hd

	out = appendBlock(out, header, methodRaw)
	out = appendBlock(out, core, methodRaw)
	for _, b := range externals {
		out = appendBlock(out, b, profile.methodForContentID(b.contentID))
	}
	return out
}

// encodeRecord flattens one record into the per-series streams, in
// the same order decodeRecords consumes them.
func encodeRecord(sw *seriesWriter, rec *Record, h *compressionHeader, plan *containerPlan,
	multiRef bool, prevStart *int32, refs ReferenceMap) {

	h.series["BF"].encodeInt(sw, int32(storedFlag(rec)))
	h.series["CF"].encodeInt(sw, int32(rec.CRAMFlags))
	if multiRef {
		h.series["RI"].encodeInt(sw, rec.RefID)
	}
	h.series["RL"].encodeInt(sw, rec.ReadLength)
	if h.apDelta {
		h.series["AP"].encodeInt(sw, rec.Start-*prevStart)
		*prevStart = rec.Start
	} else {
		h.series["AP"].encodeInt(sw, rec.Start)
	}
	h.series["RG"].encodeInt(sw, rec.ReadGroup)

	if h.readNamesIncluded {
		h.series["RN"].encodeBytes(sw, []byte(rec.Name))
	}
	switch {
	case rec.CRAMFlags&Detached != 0:
		h.series["MF"].encodeInt(sw, mateFlags(rec))
		if !h.readNamesIncluded {
			h.series["RN"].encodeBytes(sw, []byte(rec.Name))
		}
		h.series["NS"].encodeInt(sw, rec.MateRefID)
		h.series["NP"].encodeInt(sw, rec.MateStart)
		h.series["TS"].encodeInt(sw, rec.TemplateSize)
	case rec.CRAMFlags&MateDownstream != 0:
		h.series["NF"].encodeInt(sw, rec.DistanceToMate)
	}

	keys := recordTagKeys(rec)
	h.series["TL"].encodeInt(sw, plan.tagLines[tagLineString(keys)])
	for i, key := range keys {
		value := rec.Tags[i].Value
		h.tags[key].encodeBytes(sw, appendTagValue(nil, byte(key), value))
	}

	if !rec.IsUnmapped() {
		features := encodeFeatures(rec, refs)
		var ref Reference = emptyReference{}
		if refs != nil {
			if resolved := refs.Reference(rec.RefID); resolved != nil {
				ref = resolved
			}
		}
		h.series["FN"].encodeInt(sw, int32(len(features)))
		walk := newFeatureWalk(rec)
		prevPos := int32(0)
		for i := range features {
			f := &features[i]
			h.series["FC"].encodeByte(sw, f.Code)
			h.series["FP"].encodeInt(sw, f.Position-prevPos)
			prevPos = f.Position
			switch f.Code {
			case FeatureReadBase:
				h.series["BA"].encodeByte(sw, f.Base)
				h.series["QS"].encodeByte(sw, f.Quality)
			case FeatureSubstitution:
				refPos := walk.peek(f)
				refBase := byte('N')
				if refPos >= 1 && refPos <= ref.SeqLen() {
					refBase = ref.BaseAt(refPos - 1)
				}
				h.series["BS"].encodeInt(sw, int32(h.substitutionMatrix.code(refBase, f.Base)))
			case FeatureInsertion:
				h.series["IN"].encodeBytes(sw, f.Bytes)
			case FeatureSoftClip:
				h.series["SC"].encodeBytes(sw, f.Bytes)
			case FeatureBases:
				h.series["BB"].encodeBytes(sw, f.Bytes)
			case FeatureQualities:
				h.series["QQ"].encodeBytes(sw, f.Bytes)
			case FeatureDeletion:
				h.series["DL"].encodeInt(sw, f.Length)
			case FeatureRefSkip:
				h.series["RS"].encodeInt(sw, f.Length)
			case FeaturePadding:
				h.series["PD"].encodeInt(sw, f.Length)
			case FeatureHardClip:
				h.series["HC"].encodeInt(sw, f.Length)
			case FeatureInsertBase:
				h.series["BA"].encodeByte(sw, f.Base)
			case FeatureQuality:
				h.series["QS"].encodeByte(sw, f.Quality)
			}
			walk.step(f)
		}
		h.series["MQ"].encodeInt(sw, int32(rec.MappingQuality))
		if rec.CRAMFlags&QualitiesStored != 0 {
			h.series["QS"].encodeRaw(sw, rec.Qualities)
		}
	} else {
		if rec.CRAMFlags&NoSequence == 0 {
			h.series["BA"].encodeRaw(sw, rec.Sequence)
		}
		if rec.CRAMFlags&QualitiesStored != 0 {
			h.series["QS"].encodeRaw(sw, rec.Qualities)
		}
	}
}
